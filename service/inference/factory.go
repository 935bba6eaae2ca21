package inference

import (
	"github.com/khaledhikmat/vs-classifier/service/config"
	"golang.org/x/xerrors"
)

// New loads the classifier named by params.Kind.
func New(params config.ClassifierParameters) (IService, error) {
	switch params.Kind {
	case config.ClassifierKindDNN:
		return NewDNN(params)
	case config.ClassifierKindFake, "":
		return NewFake(params), nil
	default:
		return nil, xerrors.Errorf("unknown classifier kind %q", params.Kind)
	}
}
