// ABOUTME: Tests for tenant credential validation and redaction.
// ABOUTME: Table-driven over accepted and rejected shapes.

package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCredential(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		valid      bool
	}{
		{"valid", testCredential, true},
		{"secret exactly 21", "42:" + "abcdefghijklmnopqrstu", true},
		{"secret exactly 20", "42:" + "abcdefghijklmnopqrst", false},
		{"no colon", "123456789AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", false},
		{"two colons", "123:AAHdqTcvCH1vGWJxfSeofSA:s0K5PALDsaw", false},
		{"non-numeric id", "12a:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", false},
		{"empty id", ":AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredential(tt.credential)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCredential)
			}
		})
	}
}

func TestRedactCredential(t *testing.T) {
	assert.Equal(t, "123456789:***", RedactCredential(testCredential))
	assert.Equal(t, "***", RedactCredential("garbage"))
}
