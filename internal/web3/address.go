package web3

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// addressPattern is the strict form accepted by the registration forms:
// 0x prefix and exactly 40 hex digits.
var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsAddress reports whether s is a 0x-prefixed 20 byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ChecksumAddress returns the EIP-55 form of a valid address.
func ChecksumAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// SameAddress compares two addresses ignoring case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ShortAddress renders 0x1234...abcd for display.
func ShortAddress(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// ParseChainID accepts the hex quantity returned by eth_chainId ("0x89") and
// also tolerates plain decimal strings.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty chain id")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			return 0, fmt.Errorf("invalid chain id %q: no hex digits", s)
		}
		if strings.Trim(digits, "0") == "" {
			return 0, nil
		}
		id, err := hexutil.DecodeUint64("0x" + strings.TrimLeft(digits, "0"))
		if err != nil {
			return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
		}
		return id, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
	}
	return id, nil
}

// FormatChainID renders a chain id as the 0x-prefixed hex quantity.
func FormatChainID(id uint64) string {
	return hexutil.EncodeUint64(id)
}
