package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeAccess records every access-control call and can be told to fail.
type FakeAccess struct {
	mu sync.Mutex

	ProvisionCalls []string
	BlockCalls     []string
	UnblockCalls   []string

	ProvisionErr   error
	BlockErr       map[string]error // keyed by artifact ref
	UnblockErr     error
	ProvisionDelay time.Duration
}

func NewFakeAccess() *FakeAccess {
	return &FakeAccess{BlockErr: make(map[string]error)}
}

// ArtifactFor 与 Provision 返回的路径规则一致
func ArtifactFor(key string) string {
	return fmt.Sprintf("/tmp/openvpn-clients/client%s.ovpn", key)
}

func (f *FakeAccess) Provision(ctx context.Context, key string) (string, error) {
	if f.ProvisionDelay > 0 {
		select {
		case <-time.After(f.ProvisionDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProvisionCalls = append(f.ProvisionCalls, key)
	if f.ProvisionErr != nil {
		return "", f.ProvisionErr
	}
	return ArtifactFor(key), nil
}

func (f *FakeAccess) Block(_ context.Context, artifactRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BlockCalls = append(f.BlockCalls, artifactRef)
	return f.BlockErr[artifactRef]
}

func (f *FakeAccess) Unblock(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UnblockCalls = append(f.UnblockCalls, key)
	return f.UnblockErr
}

func (f *FakeAccess) SetBlockErr(artifactRef string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BlockErr[artifactRef] = err
}

func (f *FakeAccess) Provisions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ProvisionCalls...)
}

func (f *FakeAccess) Blocks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.BlockCalls...)
}

func (f *FakeAccess) Unblocks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.UnblockCalls...)
}

// Notification 记录一次通知
type Notification struct {
	Type         string
	ExternalKey  string
	ExpiresAt    time.Time
	ArtifactPath string
}

// FakeNotifier collects notifications in order.
type FakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{}
}

func (f *FakeNotifier) NotifyActivated(_ context.Context, key string, expiresAt time.Time, artifactPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Notification{Type: "activated", ExternalKey: key, ExpiresAt: expiresAt, ArtifactPath: artifactPath})
	return f.Err
}

func (f *FakeNotifier) NotifyExpired(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Notification{Type: "expired", ExternalKey: key})
	return f.Err
}

func (f *FakeNotifier) Sent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.sent...)
}

// OfType 按类型过滤
func (f *FakeNotifier) OfType(typ string) []Notification {
	var out []Notification
	for _, n := range f.Sent() {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}
