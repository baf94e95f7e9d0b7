// Package archive extracts release archives into an install directory and
// runs their post-install commands.
//
// The supported formats are a closed set. Zip archives are extracted in
// process and every file is marked executable; tar and 7z archives are handed
// to the external tools.
package archive
