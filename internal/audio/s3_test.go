package audio

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 accepts bucket existence checks and object uploads for one bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodHead && strings.Trim(r.URL.Path, "/") == "clips":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/clips/"):
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.objects[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		f.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestS3PublisherUploadsAndPresigns(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	pub, err := NewS3Publisher(context.Background(), S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "clips",
		Region:    "us-east-1",
		UseSSL:    false,
		Prefix:    "replies/",
		URLExpiry: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewS3Publisher() error = %v", err)
	}

	url, err := pub.Publish(context.Background(), NewClip([]byte("ID3 hello"), ContentTypeMPEG))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !strings.HasPrefix(url, srv.URL+"/clips/replies/") || !strings.Contains(url, "X-Amz-Signature=") {
		t.Fatalf("Publish() url = %q, want presigned clip URL", url)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.objects) != 1 {
		t.Fatalf("uploaded %d objects, want 1", len(fake.objects))
	}
	for path, body := range fake.objects {
		if !strings.HasSuffix(path, ".mp3") || !strings.Contains(string(body), "ID3 hello") {
			t.Fatalf("object %s = %q", path, body)
		}
		if fake.types[path] != ContentTypeMPEG {
			t.Fatalf("object content type = %q", fake.types[path])
		}
	}
}

func TestS3PublisherRequiresBucket(t *testing.T) {
	if _, err := NewS3Publisher(context.Background(), S3Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("NewS3Publisher() error = nil, want missing bucket")
	}
}
