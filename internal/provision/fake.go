package provision

import (
	"context"
	"fmt"
	"sync"
)

// Fake es un Provisioner en memoria con inyección de fallos, para tests.
type Fake struct {
	mu sync.Mutex

	// Estado observable.
	Credentials map[string]bool // name → enabled
	Profiles    map[string][]string

	// Knobs de fallo. Un valor no-nil hace fallar la próxima llamada.
	FailCreateCredential error
	FailGenerateProfile  error

	// FailDisableFor hace fallar DisableCredential para esos nombres; cada
	// fallo decrementa el contador (n fallos y después éxito).
	FailDisableFor map[string]int
	FailEnableFor  map[string]int

	// Contadores de llamadas.
	CreateCalls  int
	ProfileCalls int
	DeleteCalls  int
	CleanupCalls int
}

// NewFake crea un Fake listo para usar.
func NewFake() *Fake {
	return &Fake{
		Credentials:    make(map[string]bool),
		Profiles:       make(map[string][]string),
		FailDisableFor: make(map[string]int),
		FailEnableFor:  make(map[string]int),
	}
}

func (f *Fake) CreateCredential(_ context.Context, name, secret string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.FailCreateCredential != nil {
		err := f.FailCreateCredential
		return "", &Error{Step: "credential", Name: name, Err: err}
	}
	if secret == "" {
		return "", &Error{Step: "credential", Name: name, Err: fmt.Errorf("empty secret")}
	}
	f.Credentials[name] = true
	return "cred:" + name, nil
}

func (f *Fake) DeleteCredential(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if _, ok := f.Credentials[name]; !ok {
		return false
	}
	delete(f.Credentials, name)
	return true
}

func (f *Fake) EnableCredential(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.FailEnableFor[name]; n > 0 {
		f.FailEnableFor[name] = n - 1
		return false
	}
	if _, ok := f.Credentials[name]; !ok {
		return false
	}
	f.Credentials[name] = true
	return true
}

func (f *Fake) DisableCredential(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.FailDisableFor[name]; n > 0 {
		f.FailDisableFor[name] = n - 1
		return false
	}
	if _, ok := f.Credentials[name]; !ok {
		return false
	}
	f.Credentials[name] = false
	return true
}

func (f *Fake) GenerateProfile(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProfileCalls++
	if f.FailGenerateProfile != nil {
		err := f.FailGenerateProfile
		return "", &Error{Step: "profile", Name: name, Err: err}
	}
	ref := fmt.Sprintf("/fake/%s_%d.ovpn", name, f.ProfileCalls)
	f.Profiles[name] = append(f.Profiles[name], ref)
	return ref, nil
}

func (f *Fake) CleanupArtifacts(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CleanupCalls++
	delete(f.Profiles, name)
	return true
}

// Enabled reporta si la credencial existe y está habilitada.
func (f *Fake) Enabled(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Credentials[name]
}

// HasCredential reporta si la credencial existe.
func (f *Fake) HasCredential(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Credentials[name]
	return ok
}
