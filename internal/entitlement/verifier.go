package entitlement

import (
	"context"
	"errors"

	"codereview/internal/payments/razorpay"
)

// ProofVerifier decides whether a reported payment is accepted.
type ProofVerifier interface {
	Verify(ctx context.Context, taskID string, proof PaymentProof) error
}

// ClientCallback accepts any client-reported success without checking it
// with the payment provider. A caller who knows the endpoint can unlock
// their own task without paying.
type ClientCallback struct{}

func (ClientCallback) Verify(context.Context, string, PaymentProof) error { return nil }

// SignatureVerifier checks the checkout's HMAC signature over
// order_id|payment_id with the provider key secret.
type SignatureVerifier struct {
	Secret string
}

func (v SignatureVerifier) Verify(_ context.Context, _ string, proof PaymentProof) error {
	if v.Secret == "" {
		return errors.New("signature secret not configured")
	}
	return razorpay.VerifySignature(v.Secret, proof.OrderID, proof.PaymentID, proof.Signature)
}
