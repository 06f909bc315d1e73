package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
)

var _ = Describe("GitLab", func() {
	var (
		gl  *provider.GitLab
		app *model.App
	)

	BeforeEach(func() {
		gl = provider.NewGitLab("", "", nil)
		app = &model.App{Provider: model.ProviderGitLab, WebhookSecret: "hook-token", ClientID: "cid", ClientSecret: "csecret"}
	})

	Describe("EventKey", func() {
		It("reads object_kind from the body", func() {
			Expect(gl.EventKey(newRequest(nil, `{"object_kind":"merge_request"}`))).To(Equal("merge_request"))
		})
	})

	Describe("ValidateSignature", func() {
		It("accepts the shared token", func() {
			req := newRequest(map[string]string{"X-Gitlab-Token": "hook-token"}, `{}`)
			Expect(gl.ValidateSignature(app, req)).To(Succeed())
		})

		It("rejects any other token", func() {
			req := newRequest(map[string]string{"X-Gitlab-Token": "hook-tokem"}, `{}`)
			Expect(gl.ValidateSignature(app, req)).To(MatchError(provider.ErrBadSignature))
		})

		It("rejects a missing token", func() {
			Expect(gl.ValidateSignature(app, newRequest(nil, `{}`))).To(MatchError(provider.ErrBadSignature))
		})
	})

	Describe("Normalize", func() {
		It("maps push to the project id", func() {
			event, err := gl.Normalize("push", newRequest(nil, `{"object_kind":"push","project_id":15,"ref":"refs/heads/dev","after":"c0ffee"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Kind).To(Equal(model.EventKindPush))
			Expect(event.RepoExternalID).To(Equal("15"))
			Expect(event.Branch.Name).To(Equal("dev"))
		})

		It("has no external descriptor for same-project merge requests", func() {
			req := newRequest(nil, `{"object_kind":"merge_request","object_attributes":{
				"source_project_id":1,"target_project_id":1,"source_branch":"feature","target_branch":"main",
				"last_commit":{"id":"abc"}}}`)
			event, err := gl.Normalize("merge_request", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Kind).To(Equal(model.EventKindPullRequest))
			Expect(event.RepoExternalID).To(Equal("1"))
			Expect(event.Branch.External).To(BeNil())
			Expect(event.Branch.Revision).To(Equal("abc"))
			Expect(event.Branch.Overrides["feature"].BuildersFallback).To(Equal("main"))
		})

		It("describes the source project for cross-project merge requests", func() {
			req := newRequest(nil, `{"object_kind":"merge_request","object_attributes":{
				"source_project_id":2,"target_project_id":1,"source_branch":"feature","target_branch":"main",
				"source":{"name":"fork","git_http_url":"https://gitlab.com/u/fork.git"}}}`)
			event, err := gl.Normalize("merge_request", req)
			Expect(err).NotTo(HaveOccurred())
			Expect(event.RepoExternalID).To(Equal("1"))
			Expect(event.Branch.External).To(Equal(&model.ExternalInfo{
				URL:    "https://gitlab.com/u/fork.git",
				Name:   "fork",
				Branch: "feature",
				Into:   "main",
			}))
		})

		It("carries the integration id the hook was registered with", func() {
			event, err := gl.Normalize("push", newHookRequest("installation_id=7001",
				`{"object_kind":"push","project_id":15,"ref":"refs/heads/dev","after":"c0ffee"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Installation).To(Equal(model.InstallationRef{IntegrationID: 7001}))

			event, err = gl.Normalize("merge_request", newHookRequest("installation_id=7001",
				`{"object_kind":"merge_request","object_attributes":{"source_project_id":1,"target_project_id":1}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Installation.IntegrationID).To(Equal(int64(7001)))
		})

		It("leaves the installation empty for hooks without an integration id", func() {
			event, err := gl.Normalize("push", newRequest(nil, `{"object_kind":"push","project_id":15}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(event.Installation).To(BeZero())
		})

		It("rejects an unparseable integration id", func() {
			_, err := gl.Normalize("push", newHookRequest("installation_id=abc", `{"object_kind":"push","project_id":15}`))
			var invalid *provider.InvalidParameterError
			Expect(errors.As(err, &invalid)).To(BeTrue())
			Expect(provider.IsClientError(err)).To(BeTrue())
		})

		It("rejects unknown object kinds", func() {
			_, err := gl.Normalize("wiki_page", newRequest(nil, `{"object_kind":"wiki_page"}`))
			var unsupported *provider.UnsupportedEventError
			Expect(errors.As(err, &unsupported)).To(BeTrue())
		})
	})

	Describe("OAuth", func() {
		var (
			server *httptest.Server
			mux    *http.ServeMux
		)

		BeforeEach(func() {
			mux = http.NewServeMux()
			server = httptest.NewServer(mux)
			gl = provider.NewGitLab(server.URL, "http://localhost/gitlab/setup", server.Client())
		})

		AfterEach(func() {
			server.Close()
		})

		It("builds the authorize URL with the state", func() {
			u := gl.AuthCodeURL(app, "signed-state")
			Expect(u).To(HavePrefix(server.URL + "/oauth/authorize?"))
			Expect(u).To(ContainSubstring("state=signed-state"))
			Expect(u).To(ContainSubstring("client_id=cid"))
		})

		It("refreshes with the stored refresh token", func() {
			mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.ParseForm()).To(Succeed())
				Expect(r.PostForm.Get("grant_type")).To(Equal("refresh_token"))
				Expect(r.PostForm.Get("refresh_token")).To(Equal("rt-old"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"access_token":"at-new","refresh_token":"rt-new","token_type":"bearer","expires_in":7200}`))
			})

			before := time.Now()
			tok, err := gl.IssueToken(context.Background(), app, "", &model.Integration{RefreshToken: strPtr("rt-old")})
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.AccessToken).To(Equal("at-new"))
			Expect(*tok.RefreshToken).To(Equal("rt-new"))
			Expect(tok.ExpiresAt).To(BeTemporally("~", before.Add(2*time.Hour), time.Minute))
		})

		It("defaults the expiry when the provider sends none", func() {
			mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"access_token":"at-new","token_type":"bearer"}`))
			})

			tok, err := gl.IssueToken(context.Background(), app, "", &model.Integration{RefreshToken: strPtr("rt-old")})
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.RefreshToken).To(BeNil())
			Expect(tok.ExpiresAt).To(BeTemporally("~", time.Now().Add(2*time.Hour), time.Minute))
		})

		It("reports a rejected refresh as UpstreamAuthError", func() {
			mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			})

			_, err := gl.IssueToken(context.Background(), app, "", &model.Integration{RefreshToken: strPtr("rt-old")})
			var upstream *provider.UpstreamAuthError
			Expect(errors.As(err, &upstream)).To(BeTrue())
			Expect(upstream.Status).To(Equal(http.StatusBadRequest))
			Expect(upstream.Body).To(ContainSubstring("invalid_grant"))
		})

		It("requires a refresh token", func() {
			_, err := gl.IssueToken(context.Background(), app, "", &model.Integration{})
			var missing *provider.MissingParameterError
			Expect(errors.As(err, &missing)).To(BeTrue())
			Expect(missing.Name).To(Equal("refresh_token"))
		})

		It("requires an authorization code", func() {
			_, err := gl.Exchange(context.Background(), app, "")
			var missing *provider.MissingParameterError
			Expect(errors.As(err, &missing)).To(BeTrue())
		})

		It("resolves the current account", func() {
			mux.HandleFunc("/api/v4/user", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer at-new"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":77,"username":"dev"}`))
			})

			account, err := gl.CurrentAccount(context.Background(), "at-new")
			Expect(err).NotTo(HaveOccurred())
			Expect(account).To(Equal(&provider.ExternalAccount{ID: "77", Name: "dev"}))
		})
	})
})

func strPtr(s string) *string {
	return &s
}
