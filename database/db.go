package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	err = createCertificateTable(db)
	if err != nil {
		return nil, err
	}
	err = createMintJobTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS certforge`)
	return err
}

// createCertificateTable creates a PostgreSQL table for the CertificateRecord struct.
// The chain_ref columns stay NULL until the record is confirmed; the single
// confirm update writes them together with the status flip.
func createCertificateTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS certforge.certificates (
			id SERIAL PRIMARY KEY,
			certificate_id TEXT NOT NULL UNIQUE,
			student_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			course_name TEXT NOT NULL,
			instructor_name TEXT,
			completion_date TIMESTAMP NOT NULL,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			grade TEXT,
			achievements JSONB,
			certificate_number TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'pending',
			metadata_hash TEXT,
			tx_hash TEXT,
			block_number BIGINT,
			contract_address TEXT,
			network_id TEXT,
			on_chain_id TEXT,
			verification_code TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		log.Printf("Error creating certificates table: %v", err)
	}
	return err
}

// createMintJobTable creates a PostgreSQL table for the MintJob struct. The
// partial unique index is the queue's idempotency key: at most one
// non-terminal job per certificate can ever exist.
func createMintJobTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS certforge.mint_jobs (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			certificate_id TEXT NOT NULL REFERENCES certforge.certificates(certificate_id),
			state TEXT NOT NULL DEFAULT 'enqueued',
			attempts INT NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMP NOT NULL DEFAULT NOW(),
			locked_until TIMESTAMP,
			tx_hash TEXT,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating mint_jobs table: %v", err)
		return err
	}

	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_mint_jobs_active_certificate
		ON certforge.mint_jobs (certificate_id)
		WHERE state IN ('enqueued', 'uploading', 'submitting', 'confirming')
	`)
	if err != nil {
		log.Printf("Error creating mint_jobs idempotency index: %v", err)
	}
	return err
}
