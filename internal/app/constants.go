package app

const (
	Name           = "mpuview"
	ConfigFilename = "config.json"
	DBFilename     = "app.db"
	LogFilename    = "app.log"

	// JournalListLimit bounds how many applied configs the CLI prints.
	JournalListLimit = 20
)
