package logging

import "testing"

func TestMaskSensitiveValue(t *testing.T) {
	tests := []struct {
		name      string
		fieldName string
		value     string
		expected  string
	}{
		{
			name:      "password field",
			fieldName: "password",
			value:     "mysecretpassword",
			expected:  MaskedValue,
		},
		{
			name:      "bot_token field",
			fieldName: "bot_token",
			value:     "123456:abcdef",
			expected:  MaskedValue,
		},
		{
			name:      "field containing keyword",
			fieldName: "clickhouse_password",
			value:     "dbpass123",
			expected:  MaskedValue,
		},
		{
			name:      "normal field",
			fieldName: "username",
			value:     "admin",
			expected:  "admin",
		},
		{
			name:      "empty value passes through",
			fieldName: "password",
			value:     "",
			expected:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskSensitiveValue(tt.fieldName, tt.value); got != tt.expected {
				t.Errorf("MaskSensitiveValue(%q, %q) = %q, want %q", tt.fieldName, tt.value, got, tt.expected)
			}
		})
	}
}

func TestIsSensitiveField(t *testing.T) {
	if !IsSensitiveField("API_KEY") {
		t.Error("API_KEY should be sensitive regardless of case")
	}
	if IsSensitiveField("label") {
		t.Error("label should not be sensitive")
	}
}

func TestMaskString(t *testing.T) {
	if got := MaskString("0123456789abcdef", 4, 4); got != "0123***cdef" {
		t.Errorf("MaskString() = %q", got)
	}
	if got := MaskString("short", 4, 4); got != MaskedValue {
		t.Errorf("short string not fully masked: %q", got)
	}
	if got := MaskString("", 4, 4); got != "" {
		t.Errorf("empty string changed: %q", got)
	}
}
