package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

const (
	testClientID     = "3MVG9client"
	testClientSecret = "secret" //nolint:gosec // Test constant, not a real credential.
	testRefreshToken = "5Aep861refresh"
	testUsername     = "admin@acme.com"
	userinfoPath     = "/services/oauth2/userinfo"
)

// fakeOrg serves the token endpoint and the userinfo trial round-trip.
type fakeOrg struct {
	srv           *httptest.Server
	tokenCalls    atomic.Int32
	identityCalls atomic.Int32
	tokenStatus   int
	tokenBody     string
	// identityFailures is how many userinfo calls answer 401 before succeeding.
	identityFailures int32
}

func newFakeOrg(t *testing.T) *fakeOrg {
	t.Helper()
	o := &fakeOrg{tokenStatus: http.StatusOK}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			o.tokenCalls.Add(1)
			require.NoError(t, r.ParseForm())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(o.tokenStatus)
			body := o.tokenBody
			if body == "" {
				body = fmt.Sprintf(`{"access_token":"00Dxx!access","instance_url":%q,"token_type":"Bearer"}`, o.srv.URL)
			}
			_, _ = io.WriteString(w, body)
		case userinfoPath:
			n := o.identityCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			if n <= o.identityFailures {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `[{"message":"Session expired or invalid","errorCode":"INVALID_SESSION_ID"}]`)
				return
			}
			_, _ = io.WriteString(w, `{"user_id":"005xx","organization_id":"00Dxx","preferred_username":"admin@acme.com"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrg) tokenStrategy() *TokenRefreshStrategy {
	return NewTokenRefreshStrategy(TokenCredentials{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RefreshToken: testRefreshToken,
		InstanceURL:  o.srv.URL,
	}, ConnectionSettings{HTTPClient: o.srv.Client()})
}

func TestTokenRefreshStrategy_Authenticate(t *testing.T) {
	org := newFakeOrg(t)
	s := org.tokenStrategy()
	require.True(t, s.CanAuthenticate())

	sess, err := s.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StrategyTokenRefresh, sess.Strategy)
	assert.Equal(t, "005xx", sess.Identity.UserID)
	assert.Equal(t, org.srv.URL, sess.API.Info().InstanceURL)
	assert.Equal(t, int32(1), org.tokenCalls.Load())
}

func TestTokenRefreshStrategy_SendsRefreshGrant(t *testing.T) {
	var form atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			require.NoError(t, r.ParseForm())
			form.Store(r.PostForm.Encode())
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer"}`)
			return
		}
		_, _ = io.WriteString(w, `{"user_id":"005xx"}`)
	}))
	defer srv.Close()

	s := NewTokenRefreshStrategy(TokenCredentials{
		ClientID: testClientID, ClientSecret: testClientSecret, RefreshToken: testRefreshToken, InstanceURL: srv.URL,
	}, ConnectionSettings{HTTPClient: srv.Client()})
	sess, err := s.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL, sess.API.Info().InstanceURL)

	sent := form.Load().(string)
	assert.Contains(t, sent, "grant_type=refresh_token")
	assert.Contains(t, sent, "client_id="+testClientID)
	assert.Contains(t, sent, "client_secret="+testClientSecret)
	assert.Contains(t, sent, "refresh_token="+testRefreshToken)
}

func TestTokenRefreshStrategy_RetriesStaleTokenOnce(t *testing.T) {
	org := newFakeOrg(t)
	org.identityFailures = 1

	sess, err := org.tokenStrategy().Authenticate(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Equal(t, int32(2), org.tokenCalls.Load())
	assert.Equal(t, int32(2), org.identityCalls.Load())
}

func TestTokenRefreshStrategy_SecondStaleFailureSurfaces(t *testing.T) {
	org := newFakeOrg(t)
	org.identityFailures = 5

	_, err := org.tokenStrategy().Authenticate(context.Background())
	require.Error(t, err)

	var authErr *sferr.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, StrategyTokenRefresh, authErr.Strategy)
	assert.Equal(t, sferr.CategorySessionNotConfirmed, authErr.Category)
	assert.Equal(t, int32(2), org.tokenCalls.Load())
	assert.Equal(t, int32(2), org.identityCalls.Load())
}

func TestTokenRefreshStrategy_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want sferr.Category
	}{
		{"invalid grant", `{"error":"invalid_grant","error_description":"expired access/refresh token"}`, sferr.CategoryInvalidRefreshToken},
		{"invalid client", `{"error":"invalid_client","error_description":"invalid client credentials"}`, sferr.CategoryInvalidClient},
		{"invalid client id", `{"error":"invalid_client_id","error_description":"client identifier invalid"}`, sferr.CategoryInvalidClient},
		{"redirect", `{"error":"redirect_uri_mismatch","error_description":"redirect_uri must match configuration"}`, sferr.CategoryRedirectMismatch},
		{"other", `{"error":"unsupported_grant_type","error_description":"grant type not supported"}`, sferr.CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org := newFakeOrg(t)
			org.tokenStatus = http.StatusBadRequest
			org.tokenBody = tt.body

			_, err := org.tokenStrategy().Authenticate(context.Background())
			var authErr *sferr.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.want, authErr.Category)
			assert.NotEmpty(t, authErr.Hint)
			assert.Equal(t, int32(0), org.identityCalls.Load())
		})
	}
}

func TestTokenRefreshStrategy_NetworkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	instance := srv.URL
	srv.Close()

	s := NewTokenRefreshStrategy(TokenCredentials{
		ClientID: testClientID, ClientSecret: testClientSecret, RefreshToken: testRefreshToken, InstanceURL: instance,
	}, ConnectionSettings{})
	_, err := s.Authenticate(context.Background())

	var authErr *sferr.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, sferr.CategoryNetworkUnreachable, authErr.Category)
}

func TestTokenRefreshStrategy_MissingVariables(t *testing.T) {
	s := NewTokenRefreshStrategy(TokenCredentials{ClientID: testClientID}, ConnectionSettings{})
	assert.False(t, s.CanAuthenticate())
	assert.Equal(t, []string{EnvClientSecret, EnvRefreshToken, EnvInstanceURL}, s.MissingVariables())
}

func TestCredentialStrategy_Authenticate(t *testing.T) {
	var password atomic.Value
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/services/Soap/u/62.0":
			b, _ := io.ReadAll(r.Body)
			password.Store(string(b))
			fmt.Fprintf(w, `<?xml version="1.0"?><soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><loginResponse><result><serverUrl>%s/services/Soap/u/62.0/00Dxx</serverUrl><sessionId>00Dxx!sid</sessionId><userId>005xx</userId><userInfo><organizationId>00Dxx</organizationId><userName>admin@acme.com</userName></userInfo></result></loginResponse></soapenv:Body></soapenv:Envelope>`, srv.URL)
		case userinfoPath:
			assert.Equal(t, "Bearer 00Dxx!sid", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"user_id":"005xx","preferred_username":"admin@acme.com"}`)
		}
	}))
	defer srv.Close()

	s := NewCredentialStrategy(PasswordCredentials{
		Username: testUsername, Password: "hunter2", SecurityToken: "TOKEN", LoginURL: srv.URL,
	}, ConnectionSettings{HTTPClient: srv.Client()})
	require.True(t, s.CanAuthenticate())

	sess, err := s.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StrategyCredential, sess.Strategy)
	assert.Equal(t, srv.URL, sess.API.Info().InstanceURL)
	assert.Contains(t, password.Load(), "<password>hunter2TOKEN</password>")
}

func TestCredentialStrategy_InvalidLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault><faultcode>sf:INVALID_LOGIN</faultcode><faultstring>INVALID_LOGIN: Invalid username, password, security token; or user locked out.</faultstring></soapenv:Fault></soapenv:Body></soapenv:Envelope>`)
	}))
	defer srv.Close()

	s := NewCredentialStrategy(PasswordCredentials{Username: testUsername, Password: "nope", LoginURL: srv.URL},
		ConnectionSettings{HTTPClient: srv.Client()})
	_, err := s.Authenticate(context.Background())

	var authErr *sferr.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, sferr.CategoryInvalidLogin, authErr.Category)
	assert.Contains(t, authErr.Error(), "INVALID_LOGIN")
}

func writeTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "server.key")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return key, path
}

func TestJWTBearerStrategy_Authenticate(t *testing.T) {
	key, path := writeTestKey(t)

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			require.NoError(t, r.ParseForm())
			assert.Equal(t, jwtBearerGrant, r.PostForm.Get("grant_type"))

			claims := &jwt.RegisteredClaims{}
			_, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(*jwt.Token) (any, error) {
				return &key.PublicKey, nil
			}, jwt.WithValidMethods([]string{"RS256"}))
			require.NoError(t, err)
			assert.Equal(t, testClientID, claims.Issuer)
			assert.Equal(t, testUsername, claims.Subject)
			assert.Equal(t, jwt.ClaimStrings{DefaultLoginURL}, claims.Audience)

			fmt.Fprintf(w, `{"access_token":"00Dxx!jwt","instance_url":%q}`, srv.URL)
		case userinfoPath:
			_, _ = io.WriteString(w, `{"user_id":"005xx"}`)
		}
	}))
	defer srv.Close()

	s := NewJWTBearerStrategy(JWTCredentials{
		ClientID: testClientID, Username: testUsername, PrivateKeyFile: path, LoginURL: srv.URL,
	}, ConnectionSettings{HTTPClient: srv.Client()})
	require.True(t, s.CanAuthenticate())

	sess, err := s.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StrategyJWTBearer, sess.Strategy)
	assert.Equal(t, srv.URL, sess.API.Info().InstanceURL)
}

func TestJWTBearerStrategy_Failures(t *testing.T) {
	t.Run("unreadable key", func(t *testing.T) {
		s := NewJWTBearerStrategy(JWTCredentials{
			ClientID: testClientID, Username: testUsername, PrivateKeyFile: filepath.Join(t.TempDir(), "missing.key"), LoginURL: DefaultLoginURL,
		}, ConnectionSettings{})
		_, err := s.Authenticate(context.Background())
		var authErr *sferr.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, sferr.CategoryInvalidClient, authErr.Category)
	})

	t.Run("user not approved", func(t *testing.T) {
		_, path := writeTestKey(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"user hasn't approved this consumer"}`)
		}))
		defer srv.Close()

		s := NewJWTBearerStrategy(JWTCredentials{
			ClientID: testClientID, Username: testUsername, PrivateKeyFile: path, LoginURL: srv.URL,
		}, ConnectionSettings{HTTPClient: srv.Client()})
		_, err := s.Authenticate(context.Background())
		var authErr *sferr.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, sferr.CategoryInvalidLogin, authErr.Category)
		assert.Contains(t, authErr.Error(), "hasn't approved")
	})
}

func TestJWTBearerStrategy_SandboxAudience(t *testing.T) {
	s := NewJWTBearerStrategy(JWTCredentials{LoginURL: "https://test.salesforce.com"}, ConnectionSettings{})
	assert.Equal(t, "https://test.salesforce.com", s.audience())
}
