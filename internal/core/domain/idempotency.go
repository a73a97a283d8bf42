package domain

// BuildCreditKey is the idempotency key for a credit carrying referenceID.
// Deposits and purchases share one namespace so a provider transaction id can
// never be credited twice under different kinds.
func BuildCreditKey(referenceID string) string {
	return "credit:" + referenceID
}
