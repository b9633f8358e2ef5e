package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/transport-fees/internal"
)

func TestAuth(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Auth Module Suite")
}

type mockGuardians struct {
	refs  map[string][]string
	err   error
	calls int
}

func (m *mockGuardians) GuardianStudents(_ context.Context, guardianID string) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.refs[guardianID], nil
}

var _ = ginkgo.Describe("Auth Service", func() {
	var (
		tokens    *JWTTokenGenerator
		guardians *mockGuardians
		service   *Service
		ctx       context.Context
	)

	ginkgo.BeforeEach(func() {
		tokens = NewJWTTokenGenerator("test-secret", "transport-fees", time.Hour)
		guardians = &mockGuardians{refs: map[string][]string{"g-1": {"stu-1", "stu-2"}}}
		service = NewService(tokens, guardians, slog.New(slog.NewTextHandler(io.Discard, nil)))
		ctx = context.Background()
	})

	ginkgo.It("authenticates an admin token", func() {
		token, err := tokens.GenerateAccessToken(internal.Caller{UserID: "admin-1", Role: internal.RoleAdmin})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		caller, err := service.Authenticate(ctx, token)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(caller.IsAdmin()).To(gomega.BeTrue())
		gomega.Expect(caller.UserID).To(gomega.Equal("admin-1"))
	})

	ginkgo.It("keeps the student list carried by the token", func() {
		token, err := tokens.GenerateAccessToken(internal.Caller{UserID: "g-9", Role: internal.RoleGuardian, StudentRefs: []string{"stu-7"}})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		caller, err := service.Authenticate(ctx, token)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(caller.StudentRefs).To(gomega.Equal([]string{"stu-7"}))
		gomega.Expect(guardians.calls).To(gomega.Equal(0))
	})

	ginkgo.It("resolves guardian students from the directory", func() {
		token, err := tokens.GenerateAccessToken(internal.Caller{UserID: "g-1", Role: internal.RoleGuardian})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		caller, err := service.Authenticate(ctx, token)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(caller.IsGuardianFor("stu-2")).To(gomega.BeTrue())
	})

	ginkgo.It("reports directory failures as external errors", func() {
		guardians.err = errors.New("connection refused")
		token, err := tokens.GenerateAccessToken(internal.Caller{UserID: "g-1", Role: internal.RoleGuardian})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		_, err = service.Authenticate(ctx, token)
		gomega.Expect(errors.Is(err, internal.ErrDirectoryUnavailable)).To(gomega.BeTrue())
	})

	ginkgo.It("rejects tokens signed with another secret", func() {
		other := NewJWTTokenGenerator("other-secret", "transport-fees", time.Hour)
		token, err := other.GenerateAccessToken(internal.Caller{UserID: "admin-1", Role: internal.RoleAdmin})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		_, err = service.Authenticate(ctx, token)
		gomega.Expect(errors.Is(err, internal.ErrInvalidToken)).To(gomega.BeTrue())
	})

	ginkgo.It("rejects expired tokens", func() {
		claims := &Claims{
			UserID: "admin-1",
			Role:   internal.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "transport-fees",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokens.Secret)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		_, err = service.Authenticate(ctx, token)
		gomega.Expect(errors.Is(err, internal.ErrTokenExpired)).To(gomega.BeTrue())
	})

	ginkgo.It("rejects the system role and empty tokens", func() {
		token, err := tokens.GenerateAccessToken(internal.SystemCaller)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		_, err = service.Authenticate(ctx, token)
		gomega.Expect(errors.Is(err, internal.ErrInvalidToken)).To(gomega.BeTrue())

		_, err = service.Authenticate(ctx, "")
		gomega.Expect(errors.Is(err, internal.ErrInvalidToken)).To(gomega.BeTrue())
	})

	ginkgo.It("rejects a token with the none algorithm", func() {
		claims := &Claims{UserID: "admin-1", Role: internal.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Issuer: "transport-fees"}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		_, err = service.Authenticate(ctx, token)
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})
