package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/semmidev/markavault/internal/adapter/pipeline"
	"github.com/semmidev/markavault/internal/domain"
	"go.uber.org/zap"
)

var nopLogger = zap.NewNop().Sugar()

func newTestPipeline() *pipeline.Pipeline {
	cipher, err := pipeline.NewCipher([]byte("correct horse battery staple"), 10)
	if err != nil {
		panic(err)
	}
	return pipeline.New(cipher, 6)
}

func writeFile(path string, data []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		panic(err)
	}
}

func readFile(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	return data
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func dirNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// fakeStore owns a plain file in place of a real database.
type fakeStore struct {
	mu       sync.Mutex
	path     string
	closeErr error
	// initErrs is consumed one entry per Initialize call.
	initErrs []error
	closes   int
	inits    int
}

func (s *fakeStore) Path() string { return s.path }

func (s *fakeStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.closeErr
}

func (s *fakeStore) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	if len(s.initErrs) > 0 {
		err := s.initErrs[0]
		s.initErrs = s.initErrs[1:]
		return err
	}
	return nil
}

func (s *fakeStore) Checkpoint(context.Context) error { return nil }

type fakeChecker struct {
	err   error
	calls int
}

func (c *fakeChecker) CheckIntegrity(_ context.Context, path string) error {
	c.calls++
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return c.err
}

type fakeObject struct {
	data    []byte
	modTime time.Time
}

// fakeProvider is an in-memory object store. failures makes the first N
// calls of every operation fail; a negative value fails every call.
type fakeProvider struct {
	name     string
	failures int
	hold     time.Duration
	clock    func() time.Time

	mu      sync.Mutex
	objects map[string]fakeObject
	calls   map[string]int

	active int32
	peak   int32
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:    name,
		clock:   time.Now,
		objects: make(map[string]fakeObject),
		calls:   make(map[string]int),
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) attempt(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	n := p.calls[op]
	if p.failures < 0 || n <= p.failures {
		return fmt.Errorf("%s %s attempt %d failed", p.name, op, n)
	}
	return nil
}

func (p *fakeProvider) callCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakeProvider) put(key string, data []byte, modTime time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = fakeObject{data: data, modTime: modTime}
}

func (p *fakeProvider) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.objects))
	for k := range p.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *fakeProvider) Upload(ctx context.Context, localPath, remoteName string) error {
	cur := atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, cur) {
			break
		}
	}

	if p.hold > 0 {
		select {
		case <-ctx.Done():
			p.attempt("upload")
			return ctx.Err()
		case <-time.After(p.hold):
		}
	}
	if err := p.attempt("upload"); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	p.put(remoteName, data, p.clock())
	return nil
}

func (p *fakeProvider) Download(ctx context.Context, remoteName, localPath string) error {
	if err := p.attempt("download"); err != nil {
		return err
	}
	p.mu.Lock()
	obj, ok := p.objects[remoteName]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("object %s not found", remoteName)
	}
	return os.WriteFile(localPath, obj.data, 0o600)
}

func (p *fakeProvider) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	if err := p.attempt("list"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.ObjectInfo
	for k, o := range p.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.ObjectInfo{Key: k, Size: int64(len(o.data)), ModTime: o.modTime})
		}
	}
	return out, nil
}

func (p *fakeProvider) Delete(ctx context.Context, remoteName string) error {
	if err := p.attempt("delete"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, remoteName)
	return nil
}

type fakeSettings map[string]string

func (s fakeSettings) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

type fakeFeatures map[string]bool

func (f fakeFeatures) IsFeatureEnabled(name string) bool { return f[name] }

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) last() domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return domain.Event{}
	}
	return n.events[len(n.events)-1]
}

type recordingHistory struct {
	mu      sync.Mutex
	records []domain.TransferRecord
}

func (h *recordingHistory) RecordTransfer(_ context.Context, rec domain.TransferRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *recordingHistory) count(t domain.TransferType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Type == t {
			n++
		}
	}
	return n
}
