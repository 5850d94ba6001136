package sourcehost_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/sourcehost"
)

const token = "gho_test"

func fileJSON(path, content string) string {
	b, _ := json.Marshal(map[string]any{
		"type":     "file",
		"encoding": "base64",
		"name":     path[strings.LastIndex(path, "/")+1:],
		"path":     path,
		"size":     len(content),
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
	})
	return string(b)
}

var _ = Describe("Client", func() {
	var (
		mux    *http.ServeMux
		server *httptest.Server
		client *sourcehost.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		client = sourcehost.New(sourcehost.Options{
			BaseURL:      server.URL,
			MaxBlobBytes: 64,
			HTTPClient:   server.Client(),
		}, logger)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("ListMyRepositories", func() {
		It("sends the caller's token and maps descriptors", func() {
			mux.HandleFunc("/api/v3/user/repos", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer " + token))
				Expect(r.URL.Query().Get("sort")).To(Equal("updated"))
				Expect(r.URL.Query().Get("visibility")).To(Equal("all"))
				Expect(r.URL.Query().Get("per_page")).To(Equal("100"))
				fmt.Fprint(w, `[{"id":7,"name":"app","full_name":"alice/app","description":"demo","language":"Go",
					"stargazers_count":3,"forks_count":1,"private":true,"html_url":"https://github.com/alice/app",
					"pushed_at":"2026-01-02T03:04:05Z"}]`)
			})

			repos, err := client.ListMyRepositories(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(repos).To(HaveLen(1))
			Expect(repos[0].ExternalID).To(Equal(int64(7)))
			Expect(repos[0].FullName).To(Equal("alice/app"))
			Expect(repos[0].Stars).To(Equal(3))
			Expect(repos[0].Private).To(BeTrue())
			Expect(repos[0].PushedAt).NotTo(BeNil())
		})

		It("refuses to call without a token", func() {
			_, err := client.ListMyRepositories(ctx, "")
			Expect(err).To(MatchError(apperror.ErrUnauthorized))
		})

		It("maps 401 to Unauthorized", func() {
			mux.HandleFunc("/api/v3/user/repos", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"message":"Bad credentials"}`)
			})
			_, err := client.ListMyRepositories(ctx, token)
			Expect(err).To(MatchError(apperror.ErrUnauthorized))
		})
	})

	Describe("GetTree", func() {
		It("reads the default branch recursively", func() {
			mux.HandleFunc("/api/v3/repos/alice/app", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"id":7,"default_branch":"trunk"}`)
			})
			mux.HandleFunc("/api/v3/repos/alice/app/git/trees/trunk", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Query().Get("recursive")).To(Equal("1"))
				fmt.Fprint(w, `{"sha":"abc","tree":[
					{"path":"src","type":"tree"},
					{"path":"src/main.go","type":"blob","size":120}
				]}`)
			})

			tree, err := client.GetTree(ctx, token, "alice", "app")
			Expect(err).NotTo(HaveOccurred())
			Expect(tree).To(HaveLen(2))
			Expect(tree[0].Type).To(Equal("tree"))
			Expect(tree[0].Size).To(BeNil())
			Expect(tree[1].Path).To(Equal("src/main.go"))
			Expect(*tree[1].Size).To(Equal(120))
		})

		It("maps 404 to NotFound", func() {
			_, err := client.GetTree(ctx, token, "alice", "missing")
			Expect(err).To(MatchError(apperror.ErrNotFound))
		})
	})

	Describe("GetBlob", func() {
		It("decodes file content", func() {
			mux.HandleFunc("/api/v3/repos/alice/app/contents/src/main.go", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, fileJSON("src/main.go", "package main\n"))
			})

			text, err := client.GetBlob(ctx, token, "alice", "app", "src/main.go")
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("package main\n"))
		})

		It("rejects files above the size limit", func() {
			mux.HandleFunc("/api/v3/repos/alice/app/contents/big.js", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, fileJSON("big.js", strings.Repeat("x", 100)))
			})

			_, err := client.GetBlob(ctx, token, "alice", "app", "big.js")
			Expect(err).To(MatchError(apperror.ErrTooLarge))
		})

		It("rejects binary content", func() {
			mux.HandleFunc("/api/v3/repos/alice/app/contents/blob.go", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, fileJSON("blob.go", "\x00\x00\x00\x00ab"))
			})

			_, err := client.GetBlob(ctx, token, "alice", "app", "blob.go")
			Expect(err).To(MatchError(apperror.ErrDecode))
		})

		It("maps an exhausted rate limit to RateLimited", func() {
			var calls atomic.Int32
			mux.HandleFunc("/api/v3/repos/alice/app/contents/a.go", func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("X-RateLimit-Limit", "5000")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", "4102444800")
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
			})

			_, err := client.GetBlob(ctx, token, "alice", "app", "a.go")
			Expect(err).To(MatchError(apperror.ErrRateLimited))
			Expect(calls.Load()).To(Equal(int32(1)), "the client itself never retries")
		})

		It("maps 5xx to a network error", func() {
			mux.HandleFunc("/api/v3/repos/alice/app/contents/a.go", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			})

			_, err := client.GetBlob(ctx, token, "alice", "app", "a.go")
			Expect(err).To(MatchError(apperror.ErrNetwork))
		})
	})

	Describe("GetReadme", func() {
		It("returns the README text", func() {
			mux.HandleFunc("/api/v3/repos/alice/app/readme", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, fileJSON("README.md", "# App"))
			})

			readme, err := client.GetReadme(ctx, token, "alice", "app")
			Expect(err).NotTo(HaveOccurred())
			Expect(readme).To(Equal("# App"))
		})

		It("reports a missing README as NotFound", func() {
			_, err := client.GetReadme(ctx, token, "alice", "app")
			Expect(err).To(MatchError(apperror.ErrNotFound))
		})
	})

	Describe("GetManifest", func() {
		It("takes the first manifest in priority order", func() {
			mux.HandleFunc("/api/v3/repos/alice/app/contents/go.mod", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, fileJSON("go.mod", "module example.com/app\n\ngo 1.22\n"))
			})
			mux.HandleFunc("/api/v3/repos/alice/app/contents/requirements.txt", func(w http.ResponseWriter, r *http.Request) {
				Fail("requirements.txt should not be fetched once go.mod is found")
			})

			m, err := client.GetManifest(ctx, token, "alice", "app")
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Kind).To(Equal("go"))
			Expect(m.Name).To(Equal("example.com/app"))
		})

		It("reports NotFound when no manifest exists", func() {
			_, err := client.GetManifest(ctx, token, "alice", "app")
			Expect(err).To(MatchError(apperror.ErrNotFound))
		})

		It("reports an unparseable manifest as a decode error", func() {
			mux.HandleFunc("/api/v3/repos/alice/app/contents/package.json", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, fileJSON("package.json", "{nope"))
			})

			_, err := client.GetManifest(ctx, token, "alice", "app")
			Expect(err).To(MatchError(apperror.ErrDecode))
		})
	})
})
