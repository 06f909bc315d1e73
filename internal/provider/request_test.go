package provider_test

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/integrations/internal/provider"
)

var _ = Describe("Request", func() {
	It("keeps large numeric ids exact", func() {
		req := newRequest(nil, `{"repository":{"id":9007199254740993}}`)
		Expect(req.String("repository", "id")).To(Equal("9007199254740993"))
	})

	It("returns empty strings for missing paths", func() {
		req := newRequest(nil, `{"repository":{"id":1}}`)
		Expect(req.String("repository", "name")).To(BeEmpty())
		Expect(req.String("repository", "id", "deeper")).To(BeEmpty())
	})

	It("accepts an empty body", func() {
		req, err := provider.NewRequest(http.Header{}, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Body).To(BeNil())
	})

	It("rejects bodies that are not JSON objects", func() {
		_, err := provider.NewRequest(http.Header{}, nil, []byte(`not json`))
		Expect(err).To(MatchError(provider.ErrMalformedBody))
	})

	It("names the missing field in Required", func() {
		req := newRequest(nil, `{}`)
		_, err := req.Required("object_attributes", "target_project_id")

		var missing *provider.MissingParameterError
		Expect(errors.As(err, &missing)).To(BeTrue())
		Expect(missing.Name).To(Equal("object_attributes.target_project_id"))
		Expect(provider.IsClientError(err)).To(BeTrue())
	})
})
