package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/pkce"
	"github.com/mcpresso/mcpresso-oauth/token"
)

// applySecureDefaults fills zero-valued options. Boolean options are left
// as configured.
func applySecureDefaults(config *Config) *Config {
	applyTimeDefaults(config)
	applyListDefaults(config)

	if config.ServerURL == "" {
		config.ServerURL = config.Issuer
	}
	if config.JWTAlgorithm == "" {
		config.JWTAlgorithm = token.AlgorithmHS256
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return config
}

// applyTimeDefaults sets default values for time-based configuration.
func applyTimeDefaults(config *Config) {
	if config.AccessTokenLifetime == 0 {
		config.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if config.RefreshTokenLifetime == 0 {
		config.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}
	if config.AuthorizationCodeLifetime == 0 {
		config.AuthorizationCodeLifetime = DefaultAuthorizationCodeLifetime
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
}

func applyListDefaults(config *Config) {
	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = slices.Clone(defaultSupportedScopes)
	}
	if len(config.SupportedGrantTypes) == 0 {
		config.SupportedGrantTypes = slices.Clone(defaultSupportedGrantTypes)
	}
	if len(config.SupportedResponseTypes) == 0 {
		config.SupportedResponseTypes = slices.Clone(defaultSupportedResponseTypes)
	}
	if len(config.SupportedCodeChallengeMethods) == 0 {
		config.SupportedCodeChallengeMethods = slices.Clone(defaultChallengeMethods)
	}
}

// Validate reports every configuration problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateIssuer()...)

	if !token.IsSupportedAlgorithm(c.JWTAlgorithm) {
		errs = append(errs, fmt.Errorf("jwt_algorithm %q is not supported (HS256, HS384, HS512)", c.JWTAlgorithm))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("jwt_secret must be at least %d bytes", MinJWTSecretLength))
	}

	for _, method := range c.SupportedCodeChallengeMethods {
		if !pkce.IsSupportedMethod(method) {
			errs = append(errs, fmt.Errorf("code challenge method %q is not supported", method))
		}
	}
	for _, grantType := range c.SupportedGrantTypes {
		if !slices.Contains(defaultSupportedGrantTypes, grantType) {
			errs = append(errs, fmt.Errorf("grant type %q is not supported", grantType))
		}
	}
	for _, responseType := range c.SupportedResponseTypes {
		if responseType != ResponseTypeCode {
			errs = append(errs, fmt.Errorf("response type %q is not supported", responseType))
		}
	}

	if c.AccessTokenLifetime <= 0 {
		errs = append(errs, errors.New("access_token_lifetime must be positive"))
	}
	if c.RefreshTokenLifetime <= 0 {
		errs = append(errs, errors.New("refresh_token_lifetime must be positive"))
	}
	if c.AuthorizationCodeLifetime <= 0 {
		errs = append(errs, errors.New("authorization_code_lifetime must be positive"))
	}
	if c.CleanupInterval < 0 {
		errs = append(errs, errors.New("cleanup_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// validateIssuer enforces HTTPS on the issuer (OAuth 2.1 Section 1.5).
// Loopback issuers may use http for local development.
func (c *Config) validateIssuer() []error {
	if c.Issuer == "" {
		return []error{errors.New("issuer is required")}
	}

	u, err := url.Parse(c.Issuer)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return []error{fmt.Errorf("issuer %q must be an absolute http(s) URL", c.Issuer)}
	}
	if u.Fragment != "" || u.RawQuery != "" {
		return []error{fmt.Errorf("issuer %q must not contain query or fragment", c.Issuer)}
	}
	if !c.AllowInsecureHTTP && !util.IsSecureURL(c.Issuer) {
		return []error{fmt.Errorf("issuer %q must use https (set allow_insecure_http for development)", c.Issuer)}
	}
	return nil
}

// logSecurityWarnings reports insecure but valid settings.
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("PKCE is not required for authorization requests",
			"risk", "authorization code interception",
			"recommendation", "set require_pkce")
	}
	if config.SupportsChallengeMethod(pkce.MethodPlain) {
		logger.Warn("plain code_challenge_method is enabled",
			"recommendation", "restrict supported_code_challenge_methods to S256")
	}
	if config.DisableRefreshTokenRotation {
		logger.Warn("refresh token rotation is disabled",
			"risk", "stolen refresh tokens stay usable until expiry")
	}
	if config.AllowInsecureHTTP {
		logger.Warn("insecure HTTP is allowed", "issuer", config.Issuer)
	}
	if config.JWTSecret == "" {
		logger.Info("no jwt_secret configured, issuing opaque access tokens")
	}
}
