package oracle

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const modelFile = "model.json"

// Store loads value models from <dir>/<deviceID>_<d>_<m>_<YYYY>/model.json.
type Store struct {
	dir    string
	logger *log.Logger

	mu    sync.Mutex
	cache map[string]*LinearModel
}

// NewStore constructs a Store rooted at dir.
func NewStore(dir string, logger *log.Logger) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("oracle store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("oracle store: %s is not a directory", dir)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{dir: dir, logger: logger, cache: make(map[string]*LinearModel)}, nil
}

// Latest loads the newest model folder of a device.
func (s *Store) Latest(deviceID string) (*LinearModel, error) {
	folder, err := s.newestFolder(deviceID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if model, ok := s.cache[folder]; ok {
		return model, nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, folder, modelFile))
	if err != nil {
		return nil, fmt.Errorf("oracle store: read %s: %w", folder, err)
	}
	var model LinearModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidModel, folder, err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", folder, err)
	}
	if model.DeviceID == "" {
		model.DeviceID = deviceID
	}
	s.cache[folder] = &model
	return &model, nil
}

func (s *Store) newestFolder(deviceID string) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("oracle store: %w", err)
	}
	var (
		newest     string
		newestDate time.Time
	)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), deviceID+"_") {
			continue
		}
		id, date, ok := ParseFolderName(entry.Name())
		if !ok {
			s.logger.Printf("oracle store: WARN unexpected folder name: %s", entry.Name())
			continue
		}
		if id != deviceID {
			continue
		}
		if newest == "" || date.After(newestDate) {
			newest = entry.Name()
			newestDate = date
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w: device=%s dir=%s", ErrModelNotFound, deviceID, s.dir)
	}
	return newest, nil
}

// ParseFolderName splits <deviceID>_<d>_<m>_<YYYY> into id and date.
func ParseFolderName(name string) (string, time.Time, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 4 {
		return "", time.Time{}, false
	}
	n := len(parts)
	day, errD := strconv.Atoi(parts[n-3])
	month, errM := strconv.Atoi(parts[n-2])
	year, errY := strconv.Atoi(parts[n-1])
	if errD != nil || errM != nil || errY != nil || len(parts[n-1]) != 4 {
		return "", time.Time{}, false
	}
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return "", time.Time{}, false
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day {
		return "", time.Time{}, false
	}
	id := strings.Join(parts[:n-3], "_")
	if id == "" {
		return "", time.Time{}, false
	}
	return id, date, true
}
