package authpublic

// Identity is the resolved result of a successful authentication. It carries
// facts about who authenticated, not what they may do; authorization is a
// concern of the surrounding application.
type Identity struct {
	Username  string
	Usergroup string

	// Provider is the name of the mechanism that resolved this identity.
	Provider string
}

// LoginAttempt is an explicit, client-submitted login targeting a single
// provider. Value is an opaque credential payload whose shape is defined by
// the target provider.
type LoginAttempt struct {
	Provider string
	Value    []byte
}
