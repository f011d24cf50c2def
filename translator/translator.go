// Package translator holds the process-wide GLSL translator.
package translator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	gst "github.com/richinsley/goshadertranslator"
)

var (
	once       sync.Once
	translator *gst.ShaderTranslator
	initErr    error
)

// GetTranslator creates the translator on first use. A failed creation is
// remembered and returned on every call.
func GetTranslator() (*gst.ShaderTranslator, error) {
	once.Do(func() {
		translator, initErr = gst.NewShaderTranslator(context.Background())
		if initErr != nil {
			initErr = errors.Wrap(initErr, "failed to create shader translator")
			return
		}
		logrus.WithField("component", "translator").Debug("Shader translator ready")
	})
	return translator, initErr
}
