package domain

// Identity is the verified principal attached to a request after token
// verification. It carries only the user id; handlers resolve anything
// else through the user repository.
type Identity struct {
	UserID string
}
