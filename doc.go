// Package eapi is a merchant-side client for the ČSOB payment gateway eAPI
// (versions 1.5 to 1.9).
//
// Every request is signed and every response is verified before it is
// returned: the client builds the canonical string of a message from the
// field order the protocol version defines, signs it with the merchant key
// and checks the gateway's signature on the response and on each attached
// extension. A response that fails verification is never handed to the
// caller.
//
// # Keys
//
// Use [LoadRSAKeys] or [NewRSAKeys] to pair the merchant private key with the
// gateway public key. The digest follows the protocol version: SHA-1 up to
// 1.6, SHA-256 from 1.7. Custom key storage plugs in through the
// [github.com/paygate/eapi/signature.Signer] and
// [github.com/paygate/eapi/signature.Verifier] interfaces.
//
// # Calls
//
// [NewClient] takes the gateway base URL, the merchant id and the keys. Each
// operation maps to one gateway endpoint:
//
//   - [Client.PaymentInit] creates a payment and returns its payId.
//   - [Client.PaymentProcess] resolves the payment page the customer is sent to.
//   - [Client.PaymentStatus], [Client.PaymentClose], [Client.PaymentReverse]
//     and [Client.PaymentRefund] manage an existing payment.
//   - [Client.PaymentOneclickInit] and [Client.PaymentOneclickStart] charge a
//     stored card.
//   - [Client.EchoGet], [Client.EchoPost] and [Client.CustomerInfo] are
//     auxiliary checks.
//
// When the customer comes back to returnUrl, pass the received parameters to
// [Client.VerifyReturn] before trusting them.
//
// # Errors
//
// Failures are reported as [*Error]. A verified response with a non-zero
// resultCode is not an error by itself; use [ResultError] to turn it into one.
// The client never retries; [Error.Retryable] tells whether a caller policy may.
package eapi
