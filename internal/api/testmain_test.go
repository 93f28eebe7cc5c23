package api

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"

	"github.com/banshee-data/demetra.report/internal/fsutil"
	"github.com/banshee-data/demetra.report/internal/jobs"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/objstore"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/viz"
)

var (
	apiTestTemplatePath string
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	code := runAPITestMain(m)
	if code == 0 {
		if err := goleak.Find(); err != nil {
			fmt.Fprintf(os.Stderr, "goleak: %v\n", err)
			code = 1
		}
	}
	os.Exit(code)
}

// runAPITestMain migrates one template database so each test can start
// from a copy instead of replaying the migrations.
func runAPITestMain(m *testing.M) int {
	tmpDir, err := os.MkdirTemp("", "demetra-api-template-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create API test template directory: %v\n", err)
		return 1
	}
	defer os.RemoveAll(tmpDir)

	apiTestTemplatePath = filepath.Join(tmpDir, "template.db")
	templateDB, err := store.NewStore(apiTestTemplatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize API test template DB: %v\n", err)
		return 1
	}
	if _, err := templateDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to checkpoint API test template DB: %v\n", err)
		_ = templateDB.Close()
		return 1
	}
	if err := templateDB.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close API test template DB: %v\n", err)
		return 1
	}
	return m.Run()
}

func cloneAPITestDB(t *testing.T) *store.Store {
	t.Helper()
	if apiTestTemplatePath == "" {
		t.Fatal("API test template DB not initialized")
	}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	if err := copyFile(apiTestTemplatePath, dbPath); err != nil {
		t.Fatalf("failed to clone API test DB template: %v", err)
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to open cloned API test DB: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// testEnv is a server over an in-memory object store and plot directory,
// with a running job pool.
type testEnv struct {
	srv     *Server
	store   *store.Store
	objects objstore.Store
	plotFS  *fsutil.MemoryFileSystem
	handler http.Handler
}

func newTestEnv(t *testing.T, limits Limits) *testEnv {
	t.Helper()
	st := cloneAPITestDB(t)
	objects := objstore.NewFS(fsutil.NewMemoryFileSystem(), "data")
	plotFS := fsutil.NewMemoryFileSystem()
	plots, err := viz.NewRenderer(viz.Options{Dir: "/plots", FS: plotFS})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	pool := jobs.NewPool(st, 2, 8)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	srv := NewServer(st, objects, plots, pool, limits)
	return &testEnv{srv: srv, store: st, objects: objects, plotFS: plotFS, handler: srv.ServeMux()}
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, DefaultLimits())
}

// seasonalValues is a trending monthly pattern with a little deterministic
// noise.
func seasonalValues(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 100 + 0.5*float64(i) + 10*math.Sin(2*math.Pi*float64(i)/12) + 0.5*math.Sin(2.3*float64(i))
	}
	return v
}

// monthly is the JSON form of a monthly series starting January 2018.
func monthly(values []float64) map[string]any {
	return map[string]any{
		"values":       values,
		"frequency":    "M",
		"start_period": map[string]any{"year": 2018, "period": 1},
	}
}
