// Package tokensource provides the credentials the gateway presents to its upstream.
//
// Two schemes are supported:
//   - a static API key sent as x-api-key, read from a KeyStore (env, file or OS keyring);
//   - Microsoft Entra ID bearer tokens obtained with the OAuth2 client credentials grant,
//     refreshed automatically before expiry.
//
// # API Keys
//
//	store, _ := tokensource.NewKeyStore(tokensource.StorageKeyring, "")
//	key, _ := store.Read(ctx)
//	transport := tokensource.NewAPIKeyTransport(key, base)
//
// # Entra ID
//
//	auth := tokensource.NewAuthorizer(tenantID, clientID, clientSecret)
//	transport := auth.Transport(ctx, base)
//	// Every request now carries Authorization: Bearer <token>
//
// # Custom Base Transport
//
// Configure a custom base transport for token requests (e.g., for proxies or custom timeouts):
//
//	auth := tokensource.NewAuthorizer(
//	  tenantID, clientID, clientSecret,
//	  tokensource.WithTransport(customTransport),
//	)
package tokensource
