package store

// MaxBodyBytes bounds the size of a message body.
const MaxBodyBytes = 8000

// Message is a persisted chat message. ID is a per-case sequence.
type Message struct {
	ID            int64
	CaseID        int64
	SenderID      string
	SenderRole    string
	Body          string
	AttachmentRef string
	CreatedAt     int64 // unix millis
	ReadBy        []string
}

// NewMessage is the input to Append.
type NewMessage struct {
	CaseID        int64
	SenderID      string
	SenderRole    string
	Body          string
	AttachmentRef string
}

// ReadPosition is a user's read watermark within a case.
type ReadPosition struct {
	CaseID    int64
	UserID    string
	UpToID    int64
	UpdatedAt int64
}

// User is a known marketplace user as seen by the case directory.
type User struct {
	ID   string
	Role string // client, lawyer, admin
	Name string
}

// Case is the reference case record.
type Case struct {
	ID           int64
	Title        string
	ClientID     string
	LawyerID     string
	Status       string
	CaseNumber   string
	LegalService string
	Priority     string
	CreatedAt    int64
}

// NewCase holds the fields for CreateCase.
type NewCase struct {
	Title        string
	ClientID     string
	LawyerID     string
	LegalService string
	Priority     string
}

// Participant is a user attached to a case.
type Participant struct {
	UserID string
	Role   string
}

// Attachment is a reference to an uploaded file. Bytes live elsewhere.
type Attachment struct {
	Ref        string
	CaseID     int64
	UploadedBy string
	Name       string
}

// Notification is an outbox entry for a participant who was not in the room.
type Notification struct {
	ID           int64
	RecipientID  string
	CaseID       int64
	MessageID    int64
	Kind         string
	Title        string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	CreatedAt    int64
}

// Stats summarizes store contents for the admin API.
type Stats struct {
	Cases               int64
	Messages            int64
	QueuedNotifications int64
	FailedNotifications int64
	SchemaVersion       int64
}
