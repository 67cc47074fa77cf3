package logging

import (
	"log"
	"os"
)

var (
	Object   = log.New(os.Stdout, "[object] ", log.LstdFlags)
	SQL      = log.New(os.Stdout, "[sql] ", log.LstdFlags)
	Quota    = log.New(os.Stdout, "[quota] ", log.LstdFlags)
	Internal = log.New(os.Stdout, "[internal] ", log.LstdFlags)
)
