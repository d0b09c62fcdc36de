package chatmod

import "errors"

var errMissingReportFields = errors.New("chatmod: target and reason are required")
