package s3

var NewEngineWithAPI = newEngine
