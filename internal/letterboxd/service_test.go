package letterboxd

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

const signInPage = `<!doctype html>
<html><body>
<form id="signin-form" action="/user/login.do" method="post">
<input type="hidden" name="__csrf" value="csrf-token-123">
<input name="username"><input name="password" type="password">
</form>
</body></html>`

func exportZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("letterboxd-user/ratings.csv")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("Date,Name,Year,Letterboxd URI,Rating\n"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestService(t *testing.T, srv *httptest.Server) Service {
	t.Helper()
	cfg := &domain.Config{LetterboxdUsername: "user", LetterboxdPassword: "pass"}
	svc := NewService(zerolog.Nop(), cfg)
	svc.(*service).baseURL = srv.URL
	return svc
}

func TestDownloadExportDirectZip(t *testing.T) {
	archive := exportZip(t)
	loggedIn := false

	mux := http.NewServeMux()
	mux.HandleFunc("/sign-in/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(signInPage))
	})
	mux.HandleFunc("/user/login.do", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.FormValue("__csrf") != "csrf-token-123" {
			http.Error(w, "bad csrf", http.StatusForbidden)
			return
		}
		if r.FormValue("username") != "user" || r.FormValue("password") != "pass" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		loggedIn = true
		http.SetCookie(w, &http.Cookie{Name: "letterboxd.session", Value: "s"})
		w.Write([]byte(`{"result":"success"}`))
	})
	mux.HandleFunc("/data/export/", func(w http.ResponseWriter, r *http.Request) {
		if !loggedIn {
			http.Error(w, "sign in first", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(archive)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "letterboxd-export.zip")
	if err := newTestService(t, srv).DownloadExport(dest); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	if !bytes.Equal(got, archive) {
		t.Error("saved archive differs from served archive")
	}
}

func TestDownloadExportLinkedZip(t *testing.T) {
	archive := exportZip(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/sign-in/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(signInPage))
	})
	mux.HandleFunc("/user/login.do", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success"}`))
	})
	mux.HandleFunc("/data/export/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/data/export/letterboxd-user.zip">Download</a></body></html>`))
	})
	mux.HandleFunc("/data/export/letterboxd-user.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(archive)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "letterboxd-export.zip")
	if err := newTestService(t, srv).DownloadExport(dest); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("export not written: %v", err)
	}
}

func TestDownloadExportNoCSRF(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sign-in/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>maintenance</body></html>`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := newTestService(t, srv).DownloadExport(filepath.Join(t.TempDir(), "x.zip"))
	if err == nil {
		t.Fatal("missing CSRF token must fail")
	}
}

func TestDownloadExportMissingCredentials(t *testing.T) {
	svc := NewService(zerolog.Nop(), &domain.Config{})
	if err := svc.DownloadExport(filepath.Join(t.TempDir(), "x.zip")); err == nil {
		t.Fatal("missing credentials must fail")
	}
}

func TestDownloadExportInvalidArchive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sign-in/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(signInPage))
	})
	mux.HandleFunc("/user/login.do", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"success"}`))
	})
	mux.HandleFunc("/data/export/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte("this is not a zip"))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := newTestService(t, srv).DownloadExport(filepath.Join(t.TempDir(), "x.zip"))
	if err == nil {
		t.Fatal("corrupt archive must fail verification")
	}
}
