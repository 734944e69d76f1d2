package writers

// writer persists named documents, returning where they went.
type writer interface {
	Write(files map[string]string) (string, error)
}

var (
	_ writer = ConsoleWriter{}
	_ writer = FileWriter{}
)
