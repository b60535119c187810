package event

// Lifecycle event names propagated between modules.
const (
	UserCreated = "user.created"
	UserUpdated = "user.updated"
	UserDeleted = "user.deleted"
	TeamCreated = "team.created"
)

// UserPayload is the user snapshot carried inside a lifecycle event. The
// password hash never crosses the module boundary.
type UserPayload struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"email_verified"`
}

// TeamPayload describes a team in a derived team event.
type TeamPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	OwnerID string `json:"owner_id"`
}

// Envelope is the JSON body POSTed to a webhook endpoint. Delivery carries no
// event ID: consumers must tolerate duplicates and reordering by re-deriving
// state instead of counting deliveries.
type Envelope struct {
	Event    string       `json:"event"`
	User     *UserPayload `json:"user,omitempty"`
	Previous *UserPayload `json:"previous,omitempty"`
	Team     *TeamPayload `json:"team,omitempty"`
}
