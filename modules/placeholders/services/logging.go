package services

import (
	"github.com/sirupsen/logrus"

	"github.com/kai-sub/gitlab/pkg/logging"
)

func logrusNop() *logrus.Entry {
	return logging.Nop()
}
