package driver

import (
	"testing"

	"github.com/cockroachdb/errors"
)

type fakeInstance struct{ name string }

func (f *fakeInstance) Name() string                               { return f.name }
func (f *fakeInstance) PhysicalDevices() ([]PhysicalDevice, error) { return nil, nil }
func (f *fakeInstance) Surface() Surface                           { return 0 }
func (f *fakeInstance) Destroy()                                   {}

func registerFake(t *testing.T, name string, err error) {
	t.Helper()
	Register(name, func(*Config) (Instance, error) {
		if err != nil {
			return nil, err
		}
		return &fakeInstance{name: name}, nil
	})
	t.Cleanup(func() { Unregister(name) })
}

func TestRegistryRegisterAndOpen(t *testing.T) {
	registerFake(t, "test-backend", nil)

	if !IsRegistered("test-backend") {
		t.Fatal("test-backend should be registered")
	}
	inst, err := Open("test-backend", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if inst.Name() != "test-backend" {
		t.Errorf("Open().Name() = %q, want %q", inst.Name(), "test-backend")
	}
}

func TestRegistryOpenUnregistered(t *testing.T) {
	_, err := Open("nonexistent", nil)
	if !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Open(nonexistent) error = %v, want ErrNotAvailable", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	Register("temp-backend", func(*Config) (Instance, error) { return &fakeInstance{}, nil })
	Unregister("temp-backend")
	if IsRegistered("temp-backend") {
		t.Error("temp-backend should not be registered after Unregister")
	}
}

func TestRegistryAvailableSorted(t *testing.T) {
	registerFake(t, "zz-backend", nil)
	registerFake(t, "aa-backend", nil)

	names := Available()
	ia, iz := -1, -1
	for i, n := range names {
		switch n {
		case "aa-backend":
			ia = i
		case "zz-backend":
			iz = i
		}
	}
	if ia < 0 || iz < 0 || ia > iz {
		t.Errorf("Available() = %v, want both fakes in sorted order", names)
	}
}

func TestOpenDefaultSkipsFailingBackend(t *testing.T) {
	// Save and clear the registry so only the fakes participate.
	registryMu.Lock()
	saved := factories
	factories = make(map[string]Factory)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		factories = saved
		registryMu.Unlock()
	})

	registerFake(t, NameVulkan, errors.New("no vulkan loader"))
	registerFake(t, NameSoft, nil)

	inst, err := OpenDefault(&Config{})
	if err != nil {
		t.Fatalf("OpenDefault() error = %v", err)
	}
	if inst.Name() != NameSoft {
		t.Errorf("OpenDefault().Name() = %q, want %q", inst.Name(), NameSoft)
	}
}

func TestOpenDefaultNothingRegistered(t *testing.T) {
	registryMu.Lock()
	saved := factories
	factories = make(map[string]Factory)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		factories = saved
		registryMu.Unlock()
	})

	if _, err := OpenDefault(nil); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("OpenDefault() error = %v, want ErrNotAvailable", err)
	}
}

func TestIsPoolExhausted(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrOutOfPoolMemory, true},
		{errors.Wrap(ErrFragmentedPool, "allocate"), true},
		{ErrTimeout, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsPoolExhausted(tt.err); got != tt.want {
			t.Errorf("IsPoolExhausted(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
