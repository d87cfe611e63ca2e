package domain

const (
	EventNameSessionUpdated      = "session.updated"
	EventNameSessionEnded        = "session.ended"
	EventNameParticipantsChanged = "participants.changed"
	EventNamePromptReceived      = "prompt.received"
	EventNameResponseRecorded    = "response.recorded"
)

type EventSessionUpdated struct {
	Session Session
}

func (EventSessionUpdated) Name() string { return EventNameSessionUpdated }

type EventSessionEnded struct {
	Session Session
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventParticipantsChanged struct {
	SessionID    string
	Participants []Participant
}

func (EventParticipantsChanged) Name() string { return EventNameParticipantsChanged }

type EventPromptReceived struct {
	Prompt Prompt
}

func (EventPromptReceived) Name() string { return EventNamePromptReceived }

type EventResponseRecorded struct {
	Response Response
}

func (EventResponseRecorded) Name() string { return EventNameResponseRecorded }
