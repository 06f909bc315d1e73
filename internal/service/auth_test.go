package service_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
	"basegraph.app/integrations/internal/service"
)

var _ = Describe("AuthService", func() {
	var (
		now  time.Time
		auth service.AuthService
	)

	BeforeEach(func() {
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		auth = service.NewAuthService("cookie-secret", func() time.Time { return now })
	})

	Describe("sessions", func() {
		It("returns the user a session was signed for", func() {
			value, err := auth.SignSession(model.User{ID: 17, Email: "dev@example.com"}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			user, err := auth.UserFromSession(value)
			Expect(err).NotTo(HaveOccurred())
			Expect(user.ID).To(Equal(int64(17)))
			Expect(user.Email).To(Equal("dev@example.com"))
		})

		It("rejects a missing cookie", func() {
			_, err := auth.UserFromSession("")
			Expect(err).To(MatchError(service.ErrNoSession))
		})

		It("rejects an expired session", func() {
			value, err := auth.SignSession(model.User{ID: 17}, time.Minute)
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(2 * time.Minute)
			_, err = auth.UserFromSession(value)
			Expect(err).To(MatchError(service.ErrSessionExpired))
		})

		It("rejects a session signed with another secret", func() {
			other := service.NewAuthService("other-secret", func() time.Time { return now })
			value, err := other.SignSession(model.User{ID: 17}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			_, err = auth.UserFromSession(value)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("connect state", func() {
		It("validates state for the provider it was issued for", func() {
			state, err := auth.SignState(model.ProviderGitLab, model.User{ID: 3})
			Expect(err).NotTo(HaveOccurred())

			userID, err := auth.ValidateState(model.ProviderGitLab, state)
			Expect(err).NotTo(HaveOccurred())
			Expect(userID).To(Equal(int64(3)))
		})

		It("issues a distinct state each time", func() {
			first, err := auth.SignState(model.ProviderGitLab, model.User{ID: 3})
			Expect(err).NotTo(HaveOccurred())
			second, err := auth.SignState(model.ProviderGitLab, model.User{ID: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(first).NotTo(Equal(second))
		})

		It("rejects a missing state as a bad signature", func() {
			_, err := auth.ValidateState(model.ProviderGitLab, "")
			Expect(err).To(MatchError(provider.ErrBadSignature))
			var missing *provider.MissingParameterError
			Expect(errors.As(err, &missing)).To(BeFalse())
		})

		It("rejects tampered, expired or cross-provider state", func() {
			state, err := auth.SignState(model.ProviderGitLab, model.User{ID: 3})
			Expect(err).NotTo(HaveOccurred())

			_, err = auth.ValidateState(model.ProviderGitLab, state+"x")
			Expect(errors.Is(err, provider.ErrBadSignature)).To(BeTrue())

			_, err = auth.ValidateState(model.ProviderBitbucket, state)
			Expect(errors.Is(err, provider.ErrBadSignature)).To(BeTrue())

			now = now.Add(11 * time.Minute)
			_, err = auth.ValidateState(model.ProviderGitLab, state)
			Expect(errors.Is(err, provider.ErrBadSignature)).To(BeTrue())
		})
	})
})
