// Package namegen makes up usernames for accounts whose provider has no
// usable handle (Google). Names look like "brave-turing42".
package namegen

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/docker/docker/pkg/namesgenerator"
)

// Generate returns "<adjective>-<surname><0..99>", built from the same
// word lists Docker uses to name containers. The result always matches
// model.ValidRenameTarget.
func Generate() string {
	// GetRandomName(0) yields "adjective_surname" with no numeric suffix.
	left, right, _ := strings.Cut(namesgenerator.GetRandomName(0), "_")
	return left + "-" + right + strconv.Itoa(rand.IntN(100))
}
