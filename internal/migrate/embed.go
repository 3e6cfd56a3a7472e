package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql seeds/*.sql
var embedded embed.FS

// Embedded returns the migrations and seeds compiled into the binary, laid
// out as "sql/" and "seeds/".
func Embedded() fs.FS { return embedded }
