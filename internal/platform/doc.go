package platform

// Package platform contains OS and filesystem glue: the default downloads
// directory, file name sanitizing, and locating the file a fetch produced.
