package tools

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SeedExampleDB creates the users/orders example database at path.
// Running it twice leaves the data unchanged.
func SeedExampleDB(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE
		);

		CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY,
			user_id INTEGER,
			product TEXT NOT NULL,
			price DECIMAL(10,2),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	_, err = db.Exec(`
		INSERT OR IGNORE INTO users (id, name, email) VALUES
		(1, 'Alice Smith', 'alice@example.com'),
		(2, 'Bob Jones', 'bob@example.com'),
		(3, 'Carol White', 'carol@example.com');

		INSERT OR IGNORE INTO orders (id, user_id, product, price) VALUES
		(1, 1, 'Laptop', 999.99),
		(2, 1, 'Mouse', 29.99),
		(3, 2, 'Keyboard', 89.99),
		(4, 3, 'Monitor', 299.99);
	`)
	if err != nil {
		return fmt.Errorf("failed to insert sample data: %w", err)
	}

	return nil
}
