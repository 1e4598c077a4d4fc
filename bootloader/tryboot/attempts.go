package tryboot

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rugix-project/rugix-ctrl/bootloader"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// InitialAttempts is the number of boot attempts a freshly set try-next
// group gets before tryboot's natural fallback-to-default behavior takes
// over. Tryboot itself has no native attempt counter (spec §4.4 / Open
// Question 3), so rugix-ctrl emulates one with a counter file on the
// config partition — chosen over silently disabling the feature because
// remaining_attempts() is listed as an optional-but-describable part of
// the bootloader.BootFlow contract and every other variant in this module
// implements it.
const InitialAttempts = 3

func attemptsPath(configDir, group string) string {
	return filepath.Join(configDir, fmt.Sprintf("tryboot-attempts.%s", group))
}

func resetAttempts(configDir, group string) error {
	return os.WriteFile(attemptsPath(configDir, group), []byte(strconv.Itoa(InitialAttempts)), 0644)
}

func readAttempts(configDir, group string) (int, error) {
	data, err := os.ReadFile(attemptsPath(configDir, group))
	if os.IsNotExist(err) {
		return InitialAttempts, nil
	}
	if err != nil {
		return 0, rugixerr.New("tryboot.readAttempts", rugixerr.IoError, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return InitialAttempts, nil
	}
	return n, nil
}

func statusPath(configDir, group string) string {
	return filepath.Join(configDir, fmt.Sprintf("tryboot-status.%s", group))
}

func (f *Flow) RemainingAttempts(group string) (int, error) {
	return readAttempts(f.ConfigDir, group)
}

// DecrementAttempts lowers group's remaining-attempts counter by one and
// returns the new value. It is not part of the bootloader.BootFlow
// interface, and nothing in this module calls it: rugix-init's boot
// sequence does not decrement the counter.
func (f *Flow) DecrementAttempts(group string) (int, error) {
	n, err := readAttempts(f.ConfigDir, group)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		n--
	}
	if err := os.WriteFile(attemptsPath(f.ConfigDir, group), []byte(strconv.Itoa(n)), 0644); err != nil {
		return 0, rugixerr.New("tryboot.DecrementAttempts", rugixerr.IoError, err)
	}
	if n == 0 {
		f.MarkBad(group)
	}
	return n, nil
}

func (f *Flow) GetStatus(group string) (bootloader.Status, error) {
	data, err := os.ReadFile(statusPath(f.ConfigDir, group))
	if os.IsNotExist(err) {
		def, err := f.GetDefault()
		if err != nil {
			return "", err
		}
		if def == group {
			return bootloader.Good, nil
		}
		return bootloader.Inactive, nil
	}
	if err != nil {
		return "", rugixerr.New("tryboot.GetStatus", rugixerr.IoError, err)
	}
	return bootloader.Status(strings.TrimSpace(string(data))), nil
}

func (f *Flow) MarkGood(group string) error {
	if err := resetAttempts(f.ConfigDir, group); err != nil {
		return rugixerr.New("tryboot.MarkGood", rugixerr.IoError, err)
	}
	return os.WriteFile(statusPath(f.ConfigDir, group), []byte(bootloader.Good), 0644)
}

func (f *Flow) MarkBad(group string) error {
	return os.WriteFile(statusPath(f.ConfigDir, group), []byte(bootloader.Bad), 0644)
}
