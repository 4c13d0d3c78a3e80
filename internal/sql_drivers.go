package internal

import (
	// database/sql drivers for the SQL notify driver.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
