package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
)

var _ = Describe("Bitbucket", func() {
	var (
		bb  *provider.Bitbucket
		app *model.App
	)

	BeforeEach(func() {
		bb = provider.NewBitbucket("", nil)
		app = &model.App{Provider: model.ProviderBitbucket, WebhookSecret: "bb-secret"}
	})

	It("keys events by the X-Event-Key header", func() {
		req := newRequest(map[string]string{"X-Event-Key": "repo:push"}, `{}`)
		Expect(bb.EventKey(req)).To(Equal("repo:push"))
	})

	Describe("ValidateSignature", func() {
		It("accepts a valid signature and rejects a flipped one", func() {
			body := `{"repository":{"uuid":"{r1}"}}`
			valid := sign([]byte(body), app.WebhookSecret)

			req := newRequest(map[string]string{"X-Hub-Signature": valid}, body)
			Expect(bb.ValidateSignature(app, req)).To(Succeed())

			for bit := 0; bit < 256; bit++ {
				req.Header.Set("X-Hub-Signature", flipBit(valid, bit))
				Expect(bb.ValidateSignature(app, req)).To(MatchError(provider.ErrBadSignature))
			}
		})
	})

	Describe("Normalize", func() {
		It("maps repo:push to the repository uuid", func() {
			event, err := bb.Normalize("repo:push", newRequest(nil, `{"repository":{"uuid":"{r1}"},
				"push":{"changes":[{"new":{"name":"main","target":{"hash":"h1"}}}]}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Kind).To(Equal(model.EventKindPush))
			Expect(event.RepoExternalID).To(Equal("{r1}"))
			Expect(event.Branch.Name).To(Equal("main"))
			Expect(event.Branch.Revision).To(Equal("h1"))
		})

		It("leaves the url empty for same-repository pull requests", func() {
			event, err := bb.Normalize("pullrequest:created", newRequest(nil, `{"pullrequest":{
				"source":{"repository":{"uuid":"{r1}"},"branch":{"name":"feature"},"commit":{"hash":"h2"}},
				"destination":{"repository":{"uuid":"{r1}"},"branch":{"name":"main"}}}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.RepoExternalID).To(Equal("{r1}"))
			Expect(event.Branch.External).To(BeNil())
		})

		It("describes forks", func() {
			event, err := bb.Normalize("pullrequest:updated", newRequest(nil, `{"pullrequest":{
				"source":{"repository":{"uuid":"{r2}","full_name":"u/fork","links":{"html":{"href":"https://bitbucket.org/u/fork"}}},"branch":{"name":"feature"}},
				"destination":{"repository":{"uuid":"{r1}"},"branch":{"name":"main"}}}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Branch.External).To(Equal(&model.ExternalInfo{
				URL:    "https://bitbucket.org/u/fork.git",
				Name:   "u/fork",
				Branch: "feature",
				Into:   "main",
			}))
		})

		It("carries the integration id the hook was registered with", func() {
			event, err := bb.Normalize("repo:push", newHookRequest("installation_id=42", `{"repository":{"uuid":"{r1}"}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Installation).To(Equal(model.InstallationRef{IntegrationID: 42}))

			event, err = bb.Normalize("pullrequest:created", newHookRequest("installation_id=42", `{"pullrequest":{
				"source":{"repository":{"uuid":"{r1}"},"branch":{"name":"feature"}},
				"destination":{"repository":{"uuid":"{r1}"},"branch":{"name":"main"}}}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Installation.IntegrationID).To(Equal(int64(42)))
		})

		It("requires the destination repository", func() {
			_, err := bb.Normalize("pullrequest:created", newRequest(nil, `{"pullrequest":{}}`))
			var missing *provider.MissingParameterError
			Expect(errors.As(err, &missing)).To(BeTrue())
		})
	})

	Describe("API", func() {
		var server *httptest.Server

		AfterEach(func() {
			server.Close()
		})

		It("follows pagination when listing repositories", func() {
			mux := http.NewServeMux()
			server = httptest.NewServer(mux)
			mux.HandleFunc("/repositories", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer bb-token"))
				w.Header().Set("Content-Type", "application/json")
				if r.URL.Query().Get("page") == "2" {
					_, _ = w.Write([]byte(`{"values":[{"uuid":"{b}","name":"b","full_name":"w/b"}]}`))
					return
				}
				_, _ = w.Write([]byte(`{"next":"` + server.URL + `/repositories?page=2","values":[
					{"uuid":"{a}","name":"a","full_name":"w/a","is_private":true,"mainbranch":{"name":"main"},
					 "links":{"clone":[{"name":"ssh","href":"git@bitbucket.org:w/a.git"},{"name":"https","href":"https://bitbucket.org/w/a.git"}]}}]}`))
			})
			bb = provider.NewBitbucket(server.URL, server.Client())

			repos, err := bb.ListRepositories(context.Background(), &model.Integration{ID: 8}, "bb-token")
			Expect(err).NotTo(HaveOccurred())
			Expect(repos).To(HaveLen(2))
			Expect(repos[0].CloneURL).To(Equal("https://bitbucket.org/w/a.git"))
			Expect(repos[0].DefaultBranch).To(Equal("main"))
			Expect(repos[0].IntegrationID).To(Equal(int64(8)))
			Expect(repos[1].ExternalID).To(Equal("{b}"))
		})

		It("reports API failures as UpstreamAuthError", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"type":"error"}`))
			}))
			bb = provider.NewBitbucket(server.URL, server.Client())

			_, err := bb.CurrentAccount(context.Background(), "bb-token")
			var upstream *provider.UpstreamAuthError
			Expect(errors.As(err, &upstream)).To(BeTrue())
			Expect(upstream.Status).To(Equal(http.StatusForbidden))
			Expect(upstream.URL).To(Equal(server.URL + "/user"))
		})
	})
})
