package configs

import "testing"

func TestNextVersionBumpsByChangeType(t *testing.T) {
	testCases := []struct {
		name       string
		previous   string
		changeType ChangeType
		expected   string
	}{
		{"first", "", ChangeTypeCreate, "1.0.0"},
		{"update", "1.0.0", ChangeTypeUpdate, "1.1.0"},
		{"update resets patch", "1.1.3", ChangeTypeUpdate, "1.2.0"},
		{"rollback", "1.2.0", ChangeTypeRollback, "1.2.1"},
		{"snapshot", "1.2.1", ChangeTypeSnapshot, "1.2.2"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			next, err := nextVersion(testCase.previous, testCase.changeType)
			if err != nil {
				t.Fatalf("unexpected version error: %v", err)
			}
			if next != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, next)
			}
			if testCase.previous == "" {
				return
			}
			order, err := CompareVersions(testCase.previous, next)
			if err != nil {
				t.Fatalf("unexpected compare error: %v", err)
			}
			if order >= 0 {
				t.Fatalf("expected %s to order before %s", testCase.previous, next)
			}
		})
	}
}

func TestNextVersionRejectsCorruptLabel(t *testing.T) {
	if _, err := nextVersion("not-a-version", ChangeTypeUpdate); err == nil {
		t.Fatalf("expected corrupt version to fail")
	}
}
