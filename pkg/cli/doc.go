// Package cli implements the tutorhub-admin command-line tool.
//
// # Commands
//
// migrate: apply pending database migrations
//
//	tutorhub-admin migrate
//
// grant: replace the roles of an existing user. No HTTP route can create a
// ceo, so the first one is granted here.
//
//	tutorhub-admin grant -email owner@example.com -roles ceo,admin
//
// Add roles without dropping the current ones:
//
//	tutorhub-admin grant -email anna@example.com -roles manager -add
//
// # Configuration
//
// The database is read from TUTORHUB_DATABASE_URL, like the service. A .env
// file in the working directory is loaded first.
package cli
