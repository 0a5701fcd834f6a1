package session

// Keys builds the store keys of one lesson variant. Every key is scoped to a
// learner, and the variant prefix keeps the free and paid lessons of the same
// learner apart.
//
// Layout:
//
//	{prefix}session:{learner}          session record
//	{prefix}hist:{learner}             conversation history
//	{prefix}last_activity:{learner}    unix milliseconds of the last successful turn
//	{prefix}processing:{learner}       processing lock owner token
//	{prefix}processed:{learner}:{msg}  dedup marker per inbound message
type Keys struct {
	Prefix string
}

func (k Keys) Session(learnerID string) string {
	return k.Prefix + "session:" + learnerID
}

func (k Keys) History(learnerID string) string {
	return k.Prefix + "hist:" + learnerID
}

func (k Keys) LastActivity(learnerID string) string {
	return k.Prefix + "last_activity:" + learnerID
}

func (k Keys) Lock(learnerID string) string {
	return k.Prefix + "processing:" + learnerID
}

func (k Keys) Processed(learnerID, messageID string) string {
	return k.ProcessedPrefix(learnerID) + messageID
}

// ProcessedPrefix is the common prefix of every dedup marker of a learner.
func (k Keys) ProcessedPrefix(learnerID string) string {
	return k.Prefix + "processed:" + learnerID + ":"
}

// SessionScoped returns the fixed keys removed at teardown. Dedup markers are
// listed separately through ProcessedPrefix.
func (k Keys) SessionScoped(learnerID string) []string {
	return []string{
		k.History(learnerID),
		k.Session(learnerID),
		k.LastActivity(learnerID),
	}
}
