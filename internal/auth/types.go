package auth

// User is the locally stored session record. Email logins fill Email and Org,
// Sign-In with Ethereum fills Address, Signature and SIWE.
type User struct {
	Email      string `json:"email,omitempty"`
	Org        string `json:"org,omitempty"`
	Address    string `json:"address,omitempty"`
	Signature  string `json:"signature,omitempty"`
	SIWE       string `json:"siwe,omitempty"`
	LoggedInAt int64  `json:"loggedInAt"`
}

// Method reports how the user signed in.
func (u User) Method() string {
	if u.Address != "" {
		return "siwe"
	}
	return "email"
}

// Config holds the site details embedded in SIWE messages.
type Config struct {
	Domain    string
	URI       string
	Statement string
	// Required makes the middleware reject requests without a session.
	Required bool
}
