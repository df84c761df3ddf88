// Package platform provides filesystem helpers: destination path templates,
// filename sanitization and collision handling.
package platform
