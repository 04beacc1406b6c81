package megabyte

import "testing"

func TestBuildRegisteredVariant(t *testing.T) {
	m, err := Build("megabyte", tinyConfig())
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("Build returned a nil model")
	}
}

func TestBuildUnknownVariant(t *testing.T) {
	if _, err := Build("no-such-model", tinyConfig()); err == nil {
		t.Fatal("expected an error for an unregistered variant")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic registering the same name twice")
		}
	}()
	Register("megabyte", New)
}
