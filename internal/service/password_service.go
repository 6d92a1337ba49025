package service

// PasswordService hashes and verifies passwords. Encoded hashes are
// self-describing (algorithm, cost and salt travel with the digest).
type PasswordService interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (ok, rehashNeeded bool)
}
