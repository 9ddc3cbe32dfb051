package twofactor

import (
	"strings"

	"github.com/sportsai/authcore/internal/randutil"
)

// BackupCodeCount is the size of every issued backup code set.
const BackupCodeCount = 10

// NewBackupCodes returns n fresh 8 character codes.
func NewBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		h, err := randutil.Hex(4)
		if err != nil {
			return nil, err
		}
		codes = append(codes, strings.ToUpper(h))
	}
	return codes, nil
}

// HashBackupCode is the stored form of code for userID. Codes are matched
// case-insensitively.
func HashBackupCode(userID, code string) string {
	return randutil.SHA256Hex(userID + ":" + strings.ToUpper(strings.TrimSpace(code)))
}

func hashAll(userID string, codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = HashBackupCode(userID, c)
	}
	return out
}
