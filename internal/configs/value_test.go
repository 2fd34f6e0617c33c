package configs

import (
	"errors"
	"testing"
)

func TestDecodeFieldsAcceptsScalars(t *testing.T) {
	fields, err := DecodeFields([]byte(`{"host":"smtp.example.com","port":587,"use_tls":true}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if fields["host"].Kind() != KindString || fields["host"].Text() != "smtp.example.com" {
		t.Fatalf("unexpected host value %#v", fields["host"])
	}
	if fields["port"].Kind() != KindInteger || fields["port"].Int() != 587 {
		t.Fatalf("unexpected port value %#v", fields["port"])
	}
	if fields["use_tls"].Kind() != KindBoolean || !fields["use_tls"].Bool() {
		t.Fatalf("unexpected use_tls value %#v", fields["use_tls"])
	}
}

func TestDecodeFieldsRejectsUnsupportedValues(t *testing.T) {
	testCases := map[string]string{
		"fraction": `{"timeout":1.5}`,
		"nested":   `{"pool":{"size":1}}`,
		"array":    `{"hosts":["a","b"]}`,
		"null":     `{"host":null}`,
		"empty":    ``,
		"scalar":   `"smtp"`,
		"blank":    `{"":"x"}`,
	}
	for name, payload := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeFields([]byte(payload)); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestFieldsChecksumIgnoresInsertionOrder(t *testing.T) {
	first := Fields{}
	first["b"] = IntegerValue(2)
	first["a"] = StringValue("x")
	second := Fields{}
	second["a"] = StringValue("x")
	second["b"] = IntegerValue(2)

	firstSum, err := first.Checksum()
	if err != nil {
		t.Fatalf("unexpected checksum error: %v", err)
	}
	secondSum, err := second.Checksum()
	if err != nil {
		t.Fatalf("unexpected checksum error: %v", err)
	}
	if firstSum != secondSum {
		t.Fatalf("expected equal checksums, got %s and %s", firstSum, secondSum)
	}
	if len(firstSum) != 64 {
		t.Fatalf("expected hex sha256, got %q", firstSum)
	}
}

func TestValueEqualityIsStrictOnKind(t *testing.T) {
	if IntegerValue(587).Equal(StringValue("587")) {
		t.Fatalf("expected integer and string values to differ")
	}
	if !IntegerValue(587).Equal(IntegerValue(587)) {
		t.Fatalf("expected equal integers to compare equal")
	}
}
