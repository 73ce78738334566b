package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

// DriveExporter uploads completed transcripts to Google Drive under a dated
// folder tree (Transcripts/2026/08/23/...).
type DriveExporter struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveExporter creates a Drive exporter from OAuth credentials.
func NewDriveExporter(credentialsFile, tokenFile, folderName string) (*DriveExporter, error) {
	ctx := context.Background()

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	client, err := getClient(config, tokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %v", err)
	}

	de := &DriveExporter{
		service:    srv,
		folderName: folderName,
	}
	if err := de.ensureFolder(); err != nil {
		return nil, err
	}
	return de, nil
}

// getClient retrieves a token, saves it, and returns the generated client.
func getClient(config *oauth2.Config, tokenFile string) (*http.Client, error) {
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		tok, err = getTokenFromWeb(config)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, err
		}
	}
	return config.Client(context.Background(), tok), nil
}

// getTokenFromWeb requests a token interactively.
func getTokenFromWeb(config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser:\n%v\n", authURL)
	fmt.Print("Enter authorization code: ")

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("unable to read authorization code: %v", err)
	}

	tok, err := config.Exchange(context.TODO(), authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %v", err)
	}
	return tok, nil
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken caches a token to a file path.
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %v", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// ensureFolder finds or creates the root export folder.
func (de *DriveExporter) ensureFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		de.folderName)

	r, err := de.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("unable to search for folder: %v", err)
	}
	if len(r.Files) > 0 {
		de.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     de.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}
	file, err := de.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("unable to create folder: %v", err)
	}
	de.folderID = file.Id
	return nil
}

// Export uploads a final transcript as JSON plus a readable text rendering
// and returns the shareable link.
func (de *DriveExporter) Export(ft *types.FinalTranscript, renderedText []byte) (string, error) {
	now := time.Now()
	folderID, err := de.ensureDateFolder(now)
	if err != nil {
		return "", err
	}

	timestamp := now.Format("20060102_150405")
	baseFilename := fmt.Sprintf("%s_%s", timestamp, ft.Session)

	txtFile := &drive.File{
		Name:    baseFilename + ".txt",
		Parents: []string{folderID},
	}
	if _, err := de.service.Files.Create(txtFile).Media(
		readerFromBytes(renderedText, "upload-*.txt")).Do(); err != nil {
		return "", fmt.Errorf("failed to upload transcript text: %v", err)
	}

	ftJSON, err := json.MarshalIndent(ft, "", "  ")
	if err != nil {
		return "", err
	}
	jsonFile := &drive.File{
		Name:    baseFilename + ".json",
		Parents: []string{folderID},
	}
	created, err := de.service.Files.Create(jsonFile).Media(
		readerFromBytes(ftJSON, "upload-*.json")).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %v", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// ensureDateFolder creates nested year/month/day folders.
func (de *DriveExporter) ensureDateFolder(t time.Time) (string, error) {
	yearID, err := de.findOrCreateFolder(fmt.Sprintf("%d", t.Year()), de.folderID)
	if err != nil {
		return "", err
	}
	monthID, err := de.findOrCreateFolder(fmt.Sprintf("%02d", t.Month()), yearID)
	if err != nil {
		return "", err
	}
	return de.findOrCreateFolder(fmt.Sprintf("%02d", t.Day()), monthID)
}

// findOrCreateFolder finds or creates a folder with the given parent.
func (de *DriveExporter) findOrCreateFolder(name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false",
		name, parentID)

	r, err := de.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{parentID},
	}
	file, err := de.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}

// readerFromBytes stages content in a temp file for the Drive media uploader.
func readerFromBytes(b []byte, pattern string) *os.File {
	tmpFile, _ := os.CreateTemp("", pattern)
	tmpFile.Write(b)
	tmpFile.Seek(0, 0)
	return tmpFile
}
