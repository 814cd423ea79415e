// Package authsdk is a Go client for the Dottir auth service.
//
// An SDKClient covers the unauthenticated surface (login, registration, the
// MFA login gate, SSO callback completion). Successful authentication yields
// a Session, which carries the bearer token and covers the signed-in surface:
// session management, MFA enrollment, and SSO connections.
//
//	client := authsdk.NewSDKClient("https://auth.dottir.health")
//	result, err := client.Login(ctx, email, password, deviceInfo)
//	if err != nil { ... }
//	if result.MFARequired() {
//		session, err = client.CompleteMFA(ctx, result.ChallengeID, code, deviceInfo)
//	} else {
//		session = result.Session
//	}
//	sessions, err := session.Sessions(ctx)
package authsdk
