package ride

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	otpMin = 1000
	otpMax = 9999
)

// NewOTP returns a uniformly random four digit code in [1000, 9999].
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}
